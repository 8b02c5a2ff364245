package session

import "sort"

// Info is the normalized view of a session, local or remote.
type Info struct {
	ID            ID     `json:"id"`
	Owner         string `json:"owner"`
	RemoteAddress string `json:"remote_address"`
	Type          Type   `json:"type"`
	ServiceName   string `json:"service"`
	ObjectPath    string `json:"object_path"`
	Local         bool   `json:"local"`
}

// Merge folds remote descriptors into local ones. A local entry always
// wins on id collision. The result is sorted by id.
func Merge(local, remote []Info) []Info {
	byID := make(map[ID]Info, len(local)+len(remote))
	for _, info := range remote {
		byID[info.ID] = info
	}
	for _, info := range local {
		byID[info.ID] = info
	}
	out := make([]Info, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
