package engine

import "os"

func writeAllBytes(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func statPath(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
