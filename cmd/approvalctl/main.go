package main

import "github.com/garyjia/procurement-workflow/internal/cli"

func main() {
	cli.Execute()
}
