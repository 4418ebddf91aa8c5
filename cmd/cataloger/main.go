package main

import "github.com/vietddude/cataloger/internal/cli"

func main() {
	cli.Execute()
}
