package main

import (
	"log"

	"github.com/dmcallister/wharfhook/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
