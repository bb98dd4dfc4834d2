// File: cmd/adminpw/main.go
//
// Derives the admin.password_hash config value for a new admin password.
package main

import (
	"flag"
	"fmt"
	"log"

	"license-activation-server/internal/infra/api"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: adminpw <password>")
	}
	hash, err := api.HashPassword(flag.Arg(0))
	if err != nil {
		log.Fatalf("hash: %v", err)
	}
	fmt.Println(hash)
}
