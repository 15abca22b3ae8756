// ./main.go
package main

import (
	"github.com/xkilldash9x/steady/cmd"
)

func main() {
	cmd.Execute()
}
