package main

import "github.com/pleme-io/typemill/app/cmd"

func main() {
	cmd.Execute()
}
