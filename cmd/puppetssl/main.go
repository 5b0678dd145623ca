package main

import "github.com/kboghdady/puppet/cmd/puppetssl/cmd"

func main() {
	cmd.Execute()
}
