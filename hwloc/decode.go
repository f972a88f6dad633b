/*
 * Copyright 2025 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hwloc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrNotTopology      = errors.New("root element is not <topology>")
	ErrNoMachine        = errors.New("topology contains no Machine object")
	ErrMultipleMachines = errors.New("topology contains more than one Machine object")
)

// Decode parses an lstopo XML export. It is strict about the structure the
// model depends on (a <topology> root holding exactly one Machine object)
// and lenient about everything else: unknown attributes and elements are
// ignored, the version attribute is optional, and DOCTYPE declarations are
// skipped without resolution.
func Decode(r io.Reader) (*Topology, error) {
	dec := xml.NewDecoder(r)
	var root xml.StartElement
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: document has no root element", ErrNotTopology)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing topology XML: %w", err)
		}
		if el, ok := tok.(xml.StartElement); ok {
			root = el
			break
		}
	}
	if root.Name.Local != "topology" {
		return nil, fmt.Errorf("%w: found <%s>", ErrNotTopology, root.Name.Local)
	}
	var t Topology
	if err := dec.DecodeElement(&t, &root); err != nil {
		return nil, fmt.Errorf("parsing topology XML: %w", err)
	}
	machines := 0
	for _, o := range t.Objects {
		if o.Type == TypeMachine {
			machines++
		}
	}
	if machines == 0 {
		return nil, ErrNoMachine
	}
	if machines > 1 {
		return nil, fmt.Errorf("%w: found %d", ErrMultipleMachines, machines)
	}
	return &t, nil
}

// DecodeBytes parses an in-memory lstopo XML export.
func DecodeBytes(data []byte) (*Topology, error) {
	return Decode(bytes.NewReader(data))
}

// DecodeFile parses an lstopo XML export from disk.
func DecodeFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening topology XML: %w", err)
	}
	defer f.Close()
	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
