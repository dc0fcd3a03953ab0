// Command ragflow runs the prebuilt RAG workflows from the command line or
// serves them over HTTP.
package main

func main() {
	Execute()
}
