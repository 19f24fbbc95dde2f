// Command keepsake is the keepsake CLI.
package main

import "github.com/mesh-intelligence/keepsake/internal/cli"

func main() {
	cli.Execute()
}
