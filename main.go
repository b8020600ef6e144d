package main

import "phone-bridge-backend/cmd"

func main() {
	cmd.Run()
}
