package main

import "extpack.software/extpack/cmd"

func main() {
	cmd.Execute()
}
