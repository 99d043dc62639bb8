// Package imgrec contains a recorder used to automatically save images and spectra to disk.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labctl/spectrolab/generichttp"
)

// DefaultExt is the extension used when a Recorder has none
const DefaultExt = ".fits"

// Recorder records files with incrementing filenames in yyyy-mm-dd subfolders
// of Root.  It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Ext is the file extension, including the dot
	Ext string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool

	// now is swapped in tests
	now func() time.Time
}

// New returns a recorder writing below root with the given prefix, scanning
// the day's folder so numbering resumes where it left off
func New(root, prefix string) *Recorder {
	r := &Recorder{Root: root, Prefix: prefix, Ext: DefaultExt}
	r.mu.Lock()
	r.rescan()
	r.mu.Unlock()
	return r
}

func (r *Recorder) ext() string {
	if r.Ext == "" {
		return DefaultExt
	}
	return r.Ext
}

func (r *Recorder) folder() string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return filepath.Join(r.Root, now().Format("2006-01-02"))
}

// Active is true when the recorder is enabled and has somewhere to write
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// Record creates the next file and passes it to fn, then advances the counter.
// The filename is returned.  If fn fails the partial file is removed.
func (r *Recorder) Record(fn func(io.Writer) error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr := r.folder()
	if err := os.MkdirAll(fldr, 0o777); err != nil {
		return "", err
	}
	name := filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, r.ext()))
	fid, err := os.Create(name)
	if err != nil {
		return "", err
	}
	err = fn(fid)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", err
	}
	r.counter++
	return name, nil
}

// Counter returns the number the next file will carry
func (r *Recorder) Counter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// rescan sets the counter one past the highest numbered file with the
// recorder's prefix and extension in today's folder.  r.mu must be held.
func (r *Recorder) rescan() {
	r.counter = 0
	if r.Root == "" {
		return
	}
	entries, err := os.ReadDir(r.folder())
	if err != nil {
		return
	}
	ext := r.ext()
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasSuffix(fn, ext) || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ext))
		if err != nil {
			continue
		}
		if n+1 > r.counter {
			r.counter = n + 1
		}
	}
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

func decodeStr(w http.ResponseWriter, r *http.Request) (string, bool) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return str.Str, true
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	root, ok := decodeStr(w, r)
	if !ok {
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = root
	if err := os.MkdirAll(rec.folder(), 0o777); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.rescan()
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Root}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	prefix, ok := decodeStr(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	h.Recorder.Prefix = prefix
	h.rescan()
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Prefix}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Enabled = bT.Bool
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix
// and /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
