package main

import "github.com/wormholelabs-xyz/wormhole-svm-utils/cmd"

func main() {
	cmd.Execute()
}
