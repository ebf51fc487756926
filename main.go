package main

import "github.com/andresmejia3/irisguide/cmd"

func main() {
	cmd.Execute()
}
