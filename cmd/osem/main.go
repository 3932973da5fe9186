package main

import "github.com/MeKo-Tech/osem/internal/cmd"

func main() {
	cmd.Execute()
}
