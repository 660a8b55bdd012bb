package main

import (
	"github.com/playgude2/stock-sentinel/internal/cli"
)

func main() {
	cli.Execute()
}
