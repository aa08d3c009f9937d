package resources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const HuggingFaceBase = "https://huggingface.co"

type ResourceFlag uint8

// WriteCounter counts the number of bytes written to it, and every 10 seconds,
// it logs a message reporting the number of bytes written so far.
type WriteCounter struct {
	Total    uint64
	Last     time.Time
	Reported bool
	Path     string
	Size     uint64
	Logger   *zap.Logger
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.Total += uint64(n)
	if time.Since(wc.Last).Seconds() > 10 {
		wc.Reported = true
		wc.Last = time.Now()
		wc.Logger.Info(fmt.Sprintf("Downloading %s... %s / %s completed.",
			wc.Path, humanize.Bytes(wc.Total), humanize.Bytes(wc.Size)))
	}
	return n, nil
}

// Enumeration of resource flags that indicate what the resolver should do
// with the resource.
const (
	RESOURCE_REQUIRED ResourceFlag = 1 << iota
	RESOURCE_OPTIONAL
	RESOURCE_DERIVED
	RESOURCE_MODEL
)

type ResourceEntryDefs map[string]ResourceFlag
type ResourceEntry struct {
	file interface{}
	Data *[]byte
}

type Resources map[string]ResourceEntry

func (rsrcs *Resources) Cleanup() {
	for _, rsrc := range *rsrcs {
		switch t := rsrc.file.(type) {
		case *os.File:
			t.Close()
		case fs.File:
			t.Close()
		}
	}
}

// GetResourceEntries
// Returns a default map of resource entries that express what files are
// required, optional, and/or model resources for a WordPiece tokenizer.
func GetResourceEntries() ResourceEntryDefs {
	return ResourceEntryDefs{
		"vocab.txt":               RESOURCE_REQUIRED,
		"tokenizer_config.json":   RESOURCE_OPTIONAL,
		"special_tokens_map.json": RESOURCE_OPTIONAL,
		"config.json":             RESOURCE_OPTIONAL,
		"pytorch_model.bin":       RESOURCE_MODEL,
		"tf_model.h5":             RESOURCE_MODEL,
	}
}

// FetchHuggingFace
// Wrapper around FetchHTTP that fetches a resource from huggingface.co,
// authenticating with `HF_TOKEN` when it is set.
func FetchHuggingFace(id string, rsrc string) (io.ReadCloser, error) {
	return FetchHTTP(HuggingFaceBase+"/"+id+"/resolve/main", rsrc,
		os.Getenv("HF_TOKEN"))
}

// SizeHuggingFace
// Wrapper around SizeHTTP that gets the size of a resource from huggingface.co.
func SizeHuggingFace(id string, rsrc string) (uint, error) {
	return SizeHTTP(HuggingFaceBase+"/"+id+"/resolve/main", rsrc,
		os.Getenv("HF_TOKEN"))
}

func isValidUrl(toTest string) bool {
	_, err := url.ParseRequestURI(toTest)
	if err != nil {
		return false
	}

	u, err := url.Parse(toTest)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	return true
}

func isLocalDir(uri string) bool {
	stat, err := os.Stat(uri)
	return err == nil && stat.IsDir()
}

// Fetch
// Given a base URI and a resource name, determines if the resource is local,
// remote, or from huggingface.co. If the resource is local, it returns a
// file handle to the resource. If the resource is remote, or from
// huggingface.co, it fetches the resource and returns a ReadCloser to the
// fetched resource.
func Fetch(uri string, rsrc string) (io.ReadCloser, error) {
	if isValidUrl(uri) {
		return FetchHTTP(uri, rsrc, "")
	} else if _, err := os.Stat(path.Join(uri, rsrc)); !os.IsNotExist(err) {
		handle, fileErr := os.Open(path.Join(uri, rsrc))
		if fileErr != nil {
			return nil, fmt.Errorf("error opening %s/%s: %w", uri, rsrc,
				fileErr)
		}
		return handle, nil
	} else {
		return FetchHuggingFace(uri, rsrc)
	}
}

// Size
// Given a base URI and a resource name, determine the size of the resource.
func Size(uri string, rsrc string) (uint, error) {
	if isValidUrl(uri) {
		return SizeHTTP(uri, rsrc, "")
	} else if fsz, err := os.Stat(path.Join(uri, rsrc)); err == nil {
		return uint(fsz.Size()), nil
	} else if isLocalDir(uri) {
		return 0, err
	} else {
		return SizeHuggingFace(uri, rsrc)
	}
}

// AddEntry
// Add a resource to the Resources map, opening it as a mmap.Map.
func (rsrcs *Resources) AddEntry(name string, file *os.File) error {
	fileMmap, mmapErr := readMmap(file)
	if mmapErr != nil {
		return fmt.Errorf("error trying to mmap file: %w", mmapErr)
	}
	(*rsrcs)[name] = ResourceEntry{file, fileMmap}
	return nil
}

// Specials
// Map of special token roles such as `pad_token`, `cls_token`, etc. to the
// token strings.
type Specials map[string]string

// ResolveSpecialTokens
// Reads `special_tokens_map.json` if present. Entries can be either plain
// strings or objects carrying a `content` field.
func (rsrcs *Resources) ResolveSpecialTokens() (Specials, error) {
	realizedSpecials := make(Specials, 0)
	specialsJson, ok := (*rsrcs)["special_tokens_map.json"]
	if !ok || specialsJson.Data == nil {
		return realizedSpecials, nil
	}

	specialTokens := make(map[string]interface{}, 0)
	if specialErr := json.Unmarshal(*specialsJson.Data,
		&specialTokens); specialErr != nil {
		return nil, fmt.Errorf("cannot unmarshal "+
			"`special_tokens_map.json`: %w", specialErr)
	}

	for k, v := range specialTokens {
		switch t := v.(type) {
		case string:
			realizedSpecials[k] = t
		case map[string]interface{}:
			content, isString := t["content"].(string)
			if !isString {
				return nil, fmt.Errorf("unknown format for "+
					"`special_tokens_map.json` entry %s: %v", k, t)
			}
			realizedSpecials[k] = content
		case []interface{}:
			// `additional_special_tokens` is a list, and has no single role.
			continue
		default:
			return nil, fmt.Errorf("unknown format for "+
				"`special_tokens_map.json` entry %s: %v", k, t)
		}
	}
	return realizedSpecials, nil
}

// ResolveResources resolves all resources at a given uri. Local directories
// are mapped in place; remote resources are downloaded into `dir` unless a
// file of the correct size already exists there.
func ResolveResources(uri string, dir string, rsrcLvl ResourceFlag,
	logger *zap.Logger) (*Resources, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	foundResources := make(Resources, 0)
	resources := GetResourceEntries()
	local := isLocalDir(uri)

	for file, flag := range resources {
		if flag > rsrcLvl {
			continue
		}
		logger.Debug(fmt.Sprintf("Resolving %s/%s... ", uri, file))
		rsrcSize, rsrcSizeErr := Size(uri, file)
		if rsrcSizeErr != nil {
			if flag&RESOURCE_REQUIRED != 0 {
				return &foundResources, fmt.Errorf(
					"cannot retrieve required `%s` from `%s`: %w",
					file, uri, rsrcSizeErr)
			}
			logger.Debug(fmt.Sprintf(
				"Resolved %s/%s... not there, not required.", uri, file))
			continue
		}

		var rsrcFile *os.File
		targetPath := path.Join(dir, file)
		if local {
			openFile, openErr := os.Open(path.Join(uri, file))
			if openErr != nil {
				return &foundResources, fmt.Errorf("error opening '%s': %w",
					file, openErr)
			}
			rsrcFile = openFile
		} else if targetStat, targetStatErr := os.Stat(targetPath); targetStatErr == nil &&
			uint(targetStat.Size()) == rsrcSize {
			logger.Debug(fmt.Sprintf("Skipping %s/%s... already exists, "+
				"and of the correct size.", uri, file))
			openFile, skipFileErr := os.Open(targetPath)
			if skipFileErr != nil {
				return &foundResources, fmt.Errorf("error opening '%s': %w",
					file, skipFileErr)
			}
			rsrcFile = openFile
		} else {
			rsrcReader, rsrcErr := Fetch(uri, file)
			if rsrcErr != nil {
				return &foundResources, fmt.Errorf(
					"cannot retrieve `%s` from `%s`: %w", file, uri, rsrcErr)
			}
			openFile, rsrcFileErr := os.OpenFile(targetPath,
				os.O_TRUNC|os.O_RDWR|os.O_CREATE, 0644)
			if rsrcFileErr != nil {
				rsrcReader.Close()
				return &foundResources, fmt.Errorf(
					"error opening '%s' for write: %w", file, rsrcFileErr)
			}
			counter := &WriteCounter{
				Last:   time.Now(),
				Path:   fmt.Sprintf("%s/%s", uri, file),
				Size:   uint64(rsrcSize),
				Logger: logger,
			}
			bytesDownloaded, ioErr := io.Copy(openFile,
				io.TeeReader(rsrcReader, counter))
			rsrcReader.Close()
			if ioErr != nil {
				openFile.Close()
				return &foundResources, fmt.Errorf(
					"error downloading '%s': %w", file, ioErr)
			}
			logger.Info(fmt.Sprintf("Downloaded %s/%s... %s completed.",
				uri, file, humanize.Bytes(uint64(bytesDownloaded))))
			rsrcFile = openFile
		}
		if mmapErr := foundResources.AddEntry(file, rsrcFile); mmapErr != nil {
			rsrcFile.Close()
			return &foundResources, mmapErr
		}
	}
	return &foundResources, nil
}

// TokenizerConfig contains the tokenizer configuration that bert_prep uses,
// merged from `tokenizer_config.json` and `special_tokens_map.json`.
type TokenizerConfig struct {
	ModelId              *string `json:"-"`
	DoLowerCase          *bool   `json:"do_lower_case,omitempty"`
	StripAccents         *bool   `json:"strip_accents,omitempty"`
	TokenizeChineseChars *bool   `json:"tokenize_chinese_chars,omitempty"`
	ModelMaxLength       *int    `json:"model_max_length,omitempty"`
	UnkToken             *string `json:"unk_token,omitempty"`
	ClsToken             *string `json:"cls_token,omitempty"`
	SepToken             *string `json:"sep_token,omitempty"`
	PadToken             *string `json:"pad_token,omitempty"`
	MaskToken            *string `json:"mask_token,omitempty"`
}

// UnmarshalJSON accepts special tokens written either as plain strings or
// as AddedToken objects carrying a `content` field.
func (config *TokenizerConfig) UnmarshalJSON(data []byte) error {
	type plain TokenizerConfig
	var raw struct {
		plain
		UnkToken  json.RawMessage `json:"unk_token"`
		ClsToken  json.RawMessage `json:"cls_token"`
		SepToken  json.RawMessage `json:"sep_token"`
		PadToken  json.RawMessage `json:"pad_token"`
		MaskToken json.RawMessage `json:"mask_token"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*config = TokenizerConfig(raw.plain)
	for role, field := range map[string]struct {
		raw  json.RawMessage
		dest **string
	}{
		"unk_token":  {raw.UnkToken, &config.UnkToken},
		"cls_token":  {raw.ClsToken, &config.ClsToken},
		"sep_token":  {raw.SepToken, &config.SepToken},
		"pad_token":  {raw.PadToken, &config.PadToken},
		"mask_token": {raw.MaskToken, &config.MaskToken},
	} {
		content, err := addedTokenContent(field.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", role, err)
		}
		*field.dest = content
	}
	return nil
}

func addedTokenContent(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &text, nil
	}
	var added struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(raw, &added); err != nil ||
		added.Content == nil {
		return nil, fmt.Errorf("expected a string or an object with "+
			"`content`, got %s", raw)
	}
	return added.Content, nil
}

// specialDefaults are the BERT special tokens used when a vocabulary does
// not name its own.
var specialDefaults = map[string]string{
	"unk_token":  "[UNK]",
	"cls_token":  "[CLS]",
	"sep_token":  "[SEP]",
	"pad_token":  "[PAD]",
	"mask_token": "[MASK]",
}

// ResolveConfig
// Builds a TokenizerConfig from resolved resources, filling in BERT
// defaults for anything the resources leave out.
func ResolveConfig(vocabId string, rsrcs *Resources) (*TokenizerConfig,
	error) {
	var config TokenizerConfig
	if tokConfig, ok := (*rsrcs)["tokenizer_config.json"]; ok &&
		tokConfig.Data != nil && len(*tokConfig.Data) > 0 {
		if configErr := json.Unmarshal(*tokConfig.Data,
			&config); configErr != nil {
			return nil, fmt.Errorf(
				"error unmarshalling `tokenizer_config.json`: %w", configErr)
		}
	}
	config.ModelId = &vocabId

	specials, specialsErr := rsrcs.ResolveSpecialTokens()
	if specialsErr != nil {
		return nil, specialsErr
	}
	pick := func(current *string, role string) *string {
		if current != nil && *current != "" {
			return current
		}
		if special, ok := specials[role]; ok {
			return &special
		}
		fallback := specialDefaults[role]
		return &fallback
	}
	config.UnkToken = pick(config.UnkToken, "unk_token")
	config.ClsToken = pick(config.ClsToken, "cls_token")
	config.SepToken = pick(config.SepToken, "sep_token")
	config.PadToken = pick(config.PadToken, "pad_token")
	config.MaskToken = pick(config.MaskToken, "mask_token")

	if config.DoLowerCase == nil {
		lower := true
		config.DoLowerCase = &lower
	}
	if config.TokenizeChineseChars == nil {
		cjk := true
		config.TokenizeChineseChars = &cjk
	}
	return &config, nil
}

// ResolveVocabId
// Resolves a vocabulary id to a set of resources, from the local filesystem,
// a URL, or huggingface.co. Remote resources are cached in `cacheDir`; when
// `cacheDir` is empty a temporary directory is used and removed once the
// resources are mapped.
func ResolveVocabId(vocabId string, cacheDir string,
	logger *zap.Logger) (*TokenizerConfig, *Resources, error) {
	if vocabId == "" {
		return nil, nil, errors.New("empty vocabulary id")
	}
	dir := cacheDir
	if dir == "" && !isLocalDir(vocabId) {
		tmpDir, dirErr := os.MkdirTemp("", "resources")
		if dirErr != nil {
			return nil, nil, dirErr
		}
		defer os.RemoveAll(tmpDir)
		dir = tmpDir
	} else if dir != "" {
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return nil, nil, mkErr
		}
	}

	rsrcs, rsrcErr := ResolveResources(vocabId, dir, RESOURCE_DERIVED, logger)
	if rsrcErr != nil {
		rsrcs.Cleanup()
		return nil, nil, rsrcErr
	}

	resolvedVocabId := vocabId
	if isValidUrl(vocabId) {
		u, _ := url.Parse(vocabId)
		resolvedVocabId = path.Base(u.Path)
	}
	config, configErr := ResolveConfig(resolvedVocabId, rsrcs)
	if configErr != nil {
		rsrcs.Cleanup()
		return nil, nil, configErr
	}
	return config, rsrcs, nil
}
