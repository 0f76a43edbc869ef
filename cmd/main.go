package main

import (
	"log"

	"github.com/nqdang/qbattle/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal(err)
	}
}
