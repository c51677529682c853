package main

import "github.com/oshokin/pkgdeploy/cmd/pkgdeploy/cmd"

func main() {
	cmd.Execute()
}
