package main

import "github.com/xela07ax/spaceai-policy-runtime/internal/cli"

func main() {
	cli.Execute()
}
