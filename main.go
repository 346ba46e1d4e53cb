package main

import (
	"github.com/manifest-network/txbench/cmd/txbench"
)

func main() {
	txbench.Execute()
}
