// Command lexgraph builds and queries a legal knowledge graph.
package main

func main() {
	Execute()
}
