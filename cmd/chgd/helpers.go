package main

import (
	"fmt"
	"strconv"
)

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	// Base 0 so pad ids can be given in hex.
	value, err := strconv.ParseInt(args[0], 0, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return int(value), nil
}
