package main

import "github.com/vibast-solutions/ms-go-consultations/cmd"

func main() {
	cmd.Execute()
}
