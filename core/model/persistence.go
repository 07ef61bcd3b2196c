package model

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	scerrors "github.com/clinix/sourceorder/pkg/errors"
)

// SaveJSON は値をインデント付きJSONとしてファイルに保存する
//
// 一時ファイルに書き込んでからリネームするため、途中で失敗しても
// 既存のファイルは壊れない。
//
// 使用例:
//
//	err := model.SaveJSON(filepath.Join(dir, "scaler.json"), params)
func SaveJSON(filename string, v interface{}) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp*")
	if err != nil {
		return scerrors.NewArtifactError(filename, "create file", err)
	}
	defer os.Remove(tmp.Name())

	if err := SaveJSONToWriter(v, tmp); err != nil {
		tmp.Close()
		return scerrors.NewArtifactError(filename, "encode", err)
	}
	if err := tmp.Close(); err != nil {
		return scerrors.NewArtifactError(filename, "close file", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return scerrors.NewArtifactError(filename, "rename file", err)
	}
	return nil
}

// LoadJSON はJSONファイルを読み込んで v にデコードする
//
// ファイルが存在しない場合もデコードに失敗した場合も ArtifactError を返す。
func LoadJSON(filename string, v interface{}) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return scerrors.NewArtifactError(filename, "missing", err)
		}
		return scerrors.NewArtifactError(filename, "open file", err)
	}
	defer file.Close()

	if err := LoadJSONFromReader(v, file); err != nil {
		return scerrors.NewArtifactError(filename, "decode", err)
	}
	return nil
}

// SaveJSONToWriter は値をio.Writerに保存する
func SaveJSONToWriter(v interface{}, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return scerrors.Wrap(err, "failed to encode")
	}
	return nil
}

// LoadJSONFromReader はio.Readerから値を読み込む
func LoadJSONFromReader(v interface{}, r io.Reader) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return scerrors.Wrap(err, "failed to decode")
	}
	return nil
}
