// Command agentindexd runs the agent registry and discovery service.
package main

func main() {
	Execute()
}
