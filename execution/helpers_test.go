package execution

import "fmt"

// sequentialIDs yields e1, e2, ... so trees are easy to read in failures
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("e%d", n)
	}
}
