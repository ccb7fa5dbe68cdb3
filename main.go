package main

import (
	"os"

	"minidb/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
