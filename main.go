package main

import "github.com/AvaProtocol/aa-sdk-go/cmd"

func main() {
	cmd.Execute()
}
