package endpoint

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFormMemory bounds memory used by ParseMultipartForm; larger uploads
// spill to temporary files.
var defaultFormMemory int64 = 32 << 20

// defaultMaxBody caps the size of a multipart request body.
var defaultMaxBody int64 = 64 << 20

// defaultFieldLimit is the byte limit for a field without a maxLength tag.
var defaultFieldLimit = 16 * 1024

// sources lists the supported tag keys in precedence order. The first source
// that carries a value for a field wins.
var sources = []string{"path", "query", "form", "body", "cookie", "header"}

var (
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	fileHeadersType     = reflect.TypeFor[[]*multipart.FileHeader]()
)

// Unmarshal populates dst (a non-nil pointer to a struct, or to a pointer to a
// struct) from the request.
//
// Fields opt in with struct tags naming where the value comes from:
//
//	`path:"id"`      r.PathValue("id")
//	`query:"next"`   r.URL.Query()
//	`form:"name"`    url-encoded or multipart form values; a field of type
//	                 []*multipart.FileHeader receives uploaded files
//	`body:""`        the request body; JSON-decoded unless the field is a
//	                 string or []byte
//	`cookie:"name"`  request cookies
//	`header:"Accept"` request headers
//
// An empty tag name defaults to the lower-cased field name, and "-" skips the
// field. Untagged struct fields are decoded recursively.
//
// `maxLength:"n"` bounds the byte length of each value (default 16KB, "0" for
// no limit). On a root-level `_` field, maxLength sets the multipart memory
// limit instead. Multipart bodies are capped at 64MB (413 beyond that), and
// the temporary files of an upload are removed once the Handler returns.
//
// Decoding failures are returned as *EndpointError with status 400, or 415 for
// a JSON body field with a non-JSON content type. Malformed tags are 500s.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	d := &decoder{r: r}
	if err := d.parseForm(root.Type()); err != nil {
		return err
	}
	return d.decodeStruct(root)
}

type decoder struct {
	r     *http.Request
	form  map[string][]string
	files map[string][]*multipart.FileHeader
	// bodyUsed guards against two fields claiming the body.
	bodyUsed string
}

func (d *decoder) parseForm(rootType reflect.Type) error {
	if isJSONBody(d.r) {
		return nil
	}
	memory := defaultFormMemory
	if sf, ok := rootType.FieldByName("_"); ok {
		if tag := strings.TrimSpace(sf.Tag.Get("maxLength")); tag != "" {
			n, err := strconv.ParseInt(tag, 10, 64)
			if err != nil || n < 0 {
				return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: root maxLength %q", tag))
			}
			memory = n
		}
	}

	if mediaType(d.r) == "multipart/form-data" {
		d.r.Body = http.MaxBytesReader(nil, d.r.Body, defaultMaxBody)
		if err := d.r.ParseMultipartForm(memory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return newEndpointError(http.StatusRequestEntityTooLarge, "", fmt.Errorf("parse multipart form: %w", err))
			}
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("parse multipart form: %w", err))
		}
		if d.r.MultipartForm != nil {
			d.form = d.r.MultipartForm.Value
			d.files = d.r.MultipartForm.File
		}
		return nil
	}
	if err := d.r.ParseForm(); err != nil {
		return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("parse form: %w", err))
	}
	d.form = d.r.Form
	return nil
}

func (d *decoder) decodeStruct(sv reflect.Value) error {
	t := sv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := sv.Field(i)

		src, name, tagged, skip := fieldSource(sf)
		if skip {
			continue
		}
		if !tagged {
			if inner, ok := nestedStruct(fv); ok {
				if err := d.decodeStruct(inner); err != nil {
					return err
				}
			}
			continue
		}

		limit, err := maxLength(sf)
		if err != nil {
			return err
		}
		// Fields may carry several tags; try each in precedence order.
		for _, s := range src {
			ok, err := d.decodeField(fv, sf.Name, s, name[s], limit)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
	}
	return nil
}

// fieldSource returns the sources tagged on sf, in precedence order, and the
// parameter name for each.
func fieldSource(sf reflect.StructField) (src []string, names map[string]string, tagged, skip bool) {
	names = map[string]string{}
	for _, key := range sources {
		val, ok := sf.Tag.Lookup(key)
		if !ok {
			continue
		}
		name := strings.TrimSpace(strings.Split(val, ",")[0])
		if name == "-" {
			return nil, nil, true, true
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		src = append(src, key)
		names[key] = name
	}
	return src, names, len(src) > 0, false
}

func nestedStruct(fv reflect.Value) (reflect.Value, bool) {
	if fv.Kind() == reflect.Pointer && fv.Type().Elem().Kind() == reflect.Struct {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	if fv.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	if reflect.PointerTo(fv.Type()).Implements(textUnmarshalerType) {
		return reflect.Value{}, false
	}
	return fv, true
}

func maxLength(sf reflect.StructField) (int, error) {
	val, ok := sf.Tag.Lookup("maxLength")
	if !ok {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: invalid maxLength %q", sf.Name, val))
	}
	return n, nil
}

func (d *decoder) decodeField(fv reflect.Value, field, src, name string, limit int) (bool, error) {
	if src == "form" && fv.Type() == fileHeadersType {
		if hs := d.files[name]; len(hs) > 0 {
			fv.Set(reflect.ValueOf(hs))
			return true, nil
		}
		return false, nil
	}

	if src == "body" {
		return d.decodeBody(fv, field, limit)
	}

	values := d.lookup(src, name)
	if len(values) == 0 {
		return false, nil
	}
	for _, s := range values {
		if limit > 0 && len(s) > limit {
			return false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", src, name, field, limit))
		}
	}
	if err := setValues(fv, values); err != nil {
		return false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", src, name, field, err))
	}
	return true, nil
}

func (d *decoder) lookup(src, name string) []string {
	switch src {
	case "path":
		if v := d.r.PathValue(name); v != "" {
			return []string{v}
		}
	case "query":
		if d.r.URL != nil {
			return d.r.URL.Query()[name]
		}
	case "form":
		return d.form[name]
	case "cookie":
		var out []string
		for _, c := range d.r.Cookies() {
			if c.Name == name {
				out = append(out, c.Value)
			}
		}
		return out
	case "header":
		return d.r.Header[http.CanonicalHeaderKey(name)]
	}
	return nil
}

func (d *decoder) decodeBody(fv reflect.Value, field string, limit int) (bool, error) {
	if d.bodyUsed != "" {
		return false, newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: multiple body fields: %s and %s", d.bodyUsed, field))
	}
	d.bodyUsed = field
	if d.r.Body == nil || d.r.Body == http.NoBody {
		return false, nil
	}

	var body io.Reader = d.r.Body
	if limit > 0 {
		// One extra byte detects overflow.
		body = io.LimitReader(d.r.Body, int64(limit)+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	if limit > 0 && len(b) > limit {
		return false, newEndpointError(http.StatusRequestEntityTooLarge, "", fmt.Errorf("endpoint: decode: body exceeds max length %d", limit))
	}

	target := fv
	for target.Kind() == reflect.Pointer {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		target = target.Elem()
	}
	switch {
	case target.Kind() == reflect.String:
		target.SetString(string(b))
		return true, nil
	case target.Kind() == reflect.Slice && target.Type().Elem().Kind() == reflect.Uint8:
		target.SetBytes(b)
		return true, nil
	}

	if !isJSONBody(d.r) {
		mt := mediaType(d.r)
		if mt == "" {
			mt = "(missing)"
		}
		return false, newEndpointError(http.StatusUnsupportedMediaType, "", fmt.Errorf("endpoint: decode: body: unsupported media type %s", mt))
	}
	if err := json.Unmarshal(b, target.Addr().Interface()); err != nil {
		return false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body -> %s: %w", field, err))
	}
	return true, nil
}

func setValues(v reflect.Value, values []string) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
		out := reflect.MakeSlice(v.Type(), len(values), len(values))
		for i, s := range values {
			if err := setScalar(out.Index(i), s); err != nil {
				return err
			}
		}
		v.Set(out)
		return nil
	}
	return setScalar(v, values[0])
}

func setScalar(v reflect.Value, s string) error {
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(s))
		}
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Slice:
		v.SetBytes([]byte(s))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}

func mediaType(r *http.Request) string {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return mt
}

func isJSONBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	mt := mediaType(r)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
