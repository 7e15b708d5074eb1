package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	forensic "github.com/sightline/forensic"
)

// ErrIncompatibleVersion reports an inference server too old to carry
// the streaming request protocol.
var ErrIncompatibleVersion = errors.New("infer: incompatible inference server version")

// Model describes one served model.
type Model struct {
	NetworkWidth  int `json:"networkWidth"`
	NetworkHeight int `json:"networkHeight"`
}

// Describe is the parsed describe response: the server version and
// the served models keyed by their path.
type Describe struct {
	Version [3]int
	Models  map[string]Model
}

// ModelPaths returns the model paths in deterministic order.
func (d *Describe) ModelPaths() []string {
	out := make([]string, 0, len(d.Models))
	for path := range d.Models {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Model returns the named model, or an InferenceError when the server
// does not serve it.
func (d *Describe) Model(path string) (Model, error) {
	m, ok := d.Models[path]
	if !ok {
		return Model{}, &forensic.InferenceError{
			Model: path,
			Op:    "lookup model",
			Err:   fmt.Errorf("not served"),
		}
	}
	return m, nil
}

// compatible applies the protocol version gate: servers at major 1 or
// below, or at 2.0/2.1, predate the streaming request channel.
func compatible(v [3]int) bool {
	if v[0] <= 1 {
		return false
	}
	if v[0] == 2 && v[1] < 2 {
		return false
	}
	return true
}

// parseDescribe decodes the describe body. Model entries are the JSON
// keys beginning with "/"; everything else is metadata.
func parseDescribe(body []byte) (*Describe, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &forensic.InferenceError{Op: "decode describe", Err: err}
	}

	d := &Describe{Models: make(map[string]Model)}

	if v, ok := raw["version"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, &forensic.InferenceError{Op: "decode describe version", Err: err}
		}
		parts := strings.Split(s, ".")
		for i := 0; i < len(parts) && i < 3; i++ {
			n, err := strconv.Atoi(parts[i])
			if err != nil {
				return nil, &forensic.InferenceError{
					Op:  "parse describe version",
					Err: fmt.Errorf("version %q: %w", s, err),
				}
			}
			d.Version[i] = n
		}
	}

	for key, value := range raw {
		if !strings.HasPrefix(key, "/") {
			continue
		}
		var m Model
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, &forensic.InferenceError{
				Model: key,
				Op:    "decode describe model",
				Err:   err,
			}
		}
		d.Models[key] = m
	}

	return d, nil
}

// fetchDescribe performs the describe request and applies the version
// gate.
func fetchDescribe(ctx context.Context, httpClient *http.Client, addr string) (*Describe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/describe", nil)
	if err != nil {
		return nil, &forensic.InferenceError{Op: "build describe request", Err: err}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &forensic.InferenceError{Op: "describe", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &forensic.InferenceError{
			Op:  "describe",
			Err: fmt.Errorf("status %s", resp.Status),
		}
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, &forensic.InferenceError{Op: "read describe body", Err: err}
	}

	d, err := parseDescribe(body.Bytes())
	if err != nil {
		return nil, err
	}

	if !compatible(d.Version) {
		return nil, &forensic.InferenceError{
			Op: "describe",
			Err: fmt.Errorf("%w: %d.%d.%d",
				ErrIncompatibleVersion, d.Version[0], d.Version[1], d.Version[2]),
		}
	}

	return d, nil
}
