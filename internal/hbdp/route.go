package hbdp

import (
	"strconv"
	"strings"
)

// target is a parsed relative request path: "<id>" or "<id>/<serial>".
type target struct {
	id        string
	serial    uint64
	hasSerial bool
}

func parseTarget(rel string) (target, error) {
	index := strings.IndexByte(rel, '/')
	if index == -1 {
		return target{id: rel}, nil
	}
	if index == 0 {
		return target{}, notFound("No identifier.")
	}
	rest := rel[index+1:]
	if strings.IndexByte(rest, '/') != -1 {
		return target{}, notFound("Too many slashes (/).")
	}
	serial, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return target{}, notFound("Serial is not a number.")
	}
	return target{id: rel[:index], serial: serial, hasSerial: true}, nil
}

// relative strips the base path. ok is false when path lies outside it.
func relative(basePath, path string) (string, bool) {
	if basePath != "" {
		if path != basePath && !strings.HasPrefix(path, basePath+"/") {
			return "", false
		}
		path = path[len(basePath):]
	}
	return strings.TrimPrefix(path, "/"), true
}
