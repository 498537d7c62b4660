// The main package for the html-cache executable.
package main

import "github.com/JakeFAU/html-cache-renderer/cmd"

func main() {
	cmd.Execute()
}
