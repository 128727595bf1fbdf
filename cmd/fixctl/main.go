// fixctl -- CLI client for the gofixd admin endpoint.
package main

import "github.com/tradewire/gofix/cmd/fixctl/commands"

func main() {
	commands.Execute()
}
