package main

import "fay/internal/fay"

func main() {
	fay.Main()
}
