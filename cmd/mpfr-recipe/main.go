package main

import "github.com/oshokin/mpfr-recipe/cmd/mpfr-recipe/cmd"

func main() {
	cmd.Execute()
}
