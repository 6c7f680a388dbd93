package keys

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	logger "github.com/sirupsen/logrus"

	"positionengine/src/security"
)

func printUsage() {
	fmt.Println("Available commands:")
	fmt.Println("  help                 Show this help message")
	fmt.Println("  shutdown             Exit the CLI")
	fmt.Println("  genkey               Generate a fresh EXCHANGE_CREDENTIALS_KEY")
	fmt.Println("  encrypt <value>      Encrypt a credential with the configured key")
	fmt.Println("  decrypt <value>      Decrypt an encrypted credential")
	fmt.Println()
}

// Keys is the credential helper CLI. Encrypted values go into
// GATEWAY_API_KEY_ENC / GATEWAY_API_SECRET_ENC.
type Keys struct{}

func (k *Keys) Start() error {
	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	printUsage()

	for {
		fmt.Print("cmd> ")

		if !reader.Scan() {
			return reader.Err()
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, " ")
		cmd := parts[0]

		switch cmd {

		case "shutdown":
			fmt.Println("Exiting CLI...")
			return nil

		case "help":
			printUsage()

		case "genkey":
			key, err := security.GenerateKey()
			if err != nil {
				logger.WithError(err).Error("Failed to generate key")
				continue
			}
			fmt.Printf("EXCHANGE_CREDENTIALS_KEY=%s\n", key)

		case "encrypt":
			if len(parts) < 2 {
				printUsage()
				continue
			}
			sealed, err := security.EncryptString(parts[1])
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt value")
				continue
			}
			fmt.Println(sealed)

		case "decrypt":
			if len(parts) < 2 {
				printUsage()
				continue
			}
			plain, err := security.DecryptString(parts[1])
			if err != nil {
				logger.WithError(err).Error("Failed to decrypt value")
				continue
			}
			fmt.Println(plain)

		default:
			fmt.Println("Unknown command:", cmd)
			printUsage()
		}
	}
}
