package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/agentindex/agentindexd/internal/card"
)

var cardsignCmd = &cobra.Command{
	Use:   "cardsign",
	Short: "Sign an agent card for testing (operator debug tool, not part of the HTTP surface)",
}

var cardsignGenkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a base58 Ed25519 keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Printf("publicKey: %s\n", base58.Encode(pub))
		fmt.Printf("privateKey: %s\n", base58.Encode(priv))
		return nil
	},
}

var cardsignFilePath string
var cardsignPrivKeyB58 string

var cardsignSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a card JSON file with a base58 Ed25519 private key",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(cardsignFilePath)
		if err != nil {
			return fmt.Errorf("read card file: %w", err)
		}
		var c card.Card
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("parse card JSON: %w", err)
		}

		privBytes, err := base58.Decode(cardsignPrivKeyB58)
		if err != nil || len(privBytes) != ed25519.PrivateKeySize {
			return fmt.Errorf("invalid base58 Ed25519 private key")
		}

		sig := card.Sign(c, ed25519.PrivateKey(privBytes))
		fmt.Println(sig)
		return nil
	},
}

func init() {
	cardsignSignCmd.Flags().StringVar(&cardsignFilePath, "card", "", "path to the card JSON file")
	cardsignSignCmd.Flags().StringVar(&cardsignPrivKeyB58, "priv", "", "base58-encoded Ed25519 private key")
	cardsignSignCmd.MarkFlagRequired("card")
	cardsignSignCmd.MarkFlagRequired("priv")

	cardsignCmd.AddCommand(cardsignGenkeyCmd, cardsignSignCmd)
	rootCmd.AddCommand(cardsignCmd)
}
