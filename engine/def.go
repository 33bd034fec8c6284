package engine

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const IDLE = 0x0003
const BUSY = 0x0004

// NamesConf holds class labels either inline (Data is a slice) or as a path to
// a file with one label per line.
type NamesConf struct {
	IsFile bool
	Data   any
}

func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// 支持 Windows CRLF，去掉尾部的 '\r'
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func (n NamesConf) Load() ([]string, error) {
	if n.IsFile {
		path, ok := n.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file must be a string path, got %T", n.Data)
		}
		return ReadLinesReadFile(path)
	}
	rv := reflect.ValueOf(n.Data)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("names must be a slice or a file path, got %T", n.Data)
	}
	names := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("name %d is %T, expected string", i, rv.Index(i).Interface())
		}
		names[i] = s
	}
	return names, nil
}

func setTarget(net *gocv.Net, useGPU bool) {
	if useGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
		return
	}
	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)
}

func stateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	}
	return "unknown"
}
