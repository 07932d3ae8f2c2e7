package main

import (
	"fmt"
	"os"

	"github.com/easybill/mehsh/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		os.Exit(1)
	}
}
