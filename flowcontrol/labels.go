package flowcontrol

import "fmt"

func portLabel(port int) string { return fmt.Sprintf("%d", port) }
func vlLabel(vl uint8) string   { return fmt.Sprintf("%d", vl) }
