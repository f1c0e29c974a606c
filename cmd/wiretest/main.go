// Command wiretest sends and receives tagged binary values over TCP or UDP.
package main

func main() {
	Execute()
}
