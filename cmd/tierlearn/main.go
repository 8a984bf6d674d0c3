// Command tierlearn manages the Hot/Warm/Cold learning store of a project.
package main

func main() {
	Execute()
}
