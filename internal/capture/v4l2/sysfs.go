package v4l2

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// node is one /dev/videoN capture node as seen through sysfs.
type node struct {
	Path      string // /dev/video0
	Number    int
	Name      string // sysfs name, empty if unreadable
	ByID      string // /dev/v4l/by-id/... link, empty if none
	ProductID string // vendor:product, empty if not a USB device
	Index     int    // sysfs index; 0 for the primary node of a device
}

var videoNodeRe = regexp.MustCompile(`^video(\d+)$`)

// videoNodes lists /dev/videoN paths sorted by N.
func videoNodes(devDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("listing video nodes: %w", err)
	}

	out := matches[:0]
	for _, m := range matches {
		if videoNodeRe.MatchString(filepath.Base(m)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return nodeNumber(out[i]) < nodeNumber(out[j])
	})
	return out, nil
}

func nodeNumber(path string) int {
	m := videoNodeRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// scanNodes builds node descriptions for every video node under devDir.
func scanNodes(devDir, sysDir string) ([]node, error) {
	paths, err := videoNodes(devDir)
	if err != nil {
		return nil, err
	}
	links := byIDLinks(filepath.Join(devDir, "v4l", "by-id"))

	nodes := make([]node, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		sys := filepath.Join(sysDir, base)

		n := node{
			Path:   p,
			Number: nodeNumber(p),
			Name:   readTrim(filepath.Join(sys, "name")),
			ByID:   links[base],
		}
		if idx := readTrim(filepath.Join(sys, "index")); idx != "" {
			if v, err := strconv.Atoi(idx); err == nil {
				n.Index = v
			}
		}
		n.ProductID = usbProductID(filepath.Join(sys, "device"))
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// byIDLinks maps videoN to the /dev/v4l/by-id link pointing at it.
// Only index0 links are considered when a device exposes several.
func byIDLinks(dir string) map[string]string {
	out := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		link := filepath.Join(dir, e.Name())
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		base := filepath.Base(target)
		if !videoNodeRe.MatchString(base) {
			continue
		}
		if prev, ok := out[base]; ok && strings.HasSuffix(prev, "index0") {
			continue
		}
		out[base] = link
	}
	return out
}

// usbProductID reads idVendor:idProduct from the USB device owning the
// interface that deviceLink points to.
func usbProductID(deviceLink string) string {
	iface, err := filepath.EvalSymlinks(deviceLink)
	if err != nil {
		return ""
	}
	usbDev := filepath.Dir(iface)
	vendor := readTrim(filepath.Join(usbDev, "idVendor"))
	product := readTrim(filepath.Join(usbDev, "idProduct"))
	if vendor == "" || product == "" {
		return ""
	}
	return vendor + ":" + product
}

func readTrim(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
