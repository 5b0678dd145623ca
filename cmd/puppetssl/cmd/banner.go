package cmd

import "fmt"

const banner = `
  _____                           _     _____ _____ _
 |  __ \                         | |   / ____/ ____| |
 | |__) |   _ _ __  _ __   ___| |_ | (___| (___ | |
 |  ___/ | | | '_ \| '_ \ / _ \ __| \___ \\___ \| |
 | |   | |_| | |_) | |_) |  __/ |_  ____) |___) | |____
 |_|    \__,_| .__/| .__/ \___|\__||_____/_____/|______|
             | |   | |
             |_|   |_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Agent SSL Bootstrap - Version %s\x1b[0m\n\n", Version)
}
