package main

import "github.com/ValentinKolb/edb/cmd"

func main() {
	cmd.Execute()
}
