// Command hoplite serves a hoplite application and provides tooling for its
// routes and templates.
package main

func main() {
	Execute()
}
