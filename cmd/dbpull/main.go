package main

import "github.com/dbpull/dbpull/cmd"

func main() {
	cmd.Execute()
}
