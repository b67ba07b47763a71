package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/gencache/gencache/internal/vault"
	"golang.org/x/term"
)

func cmdKey(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: gencache key <set|show|delete>")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "set":
		fmt.Print("Enter upstream API key: ")
		key, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
			os.Exit(1)
		}
		if err := v.Set(string(key)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Upstream API key stored")

	case "show":
		if _, err := v.Get(); err != nil {
			fmt.Println("No upstream API key stored")
			return
		}
		fmt.Println("upstream: ****")

	case "delete":
		if err := v.Delete(); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Upstream API key deleted")

	default:
		fmt.Fprintf(os.Stderr, "unknown key command: %s\n", args[0])
		os.Exit(1)
	}
}
