package main

import (
	"log"

	"stakeledger/services/ledgerd"
)

func main() {
	if err := ledgerd.Main(); err != nil {
		log.Fatalf("ledgerd: %v", err)
	}
}
