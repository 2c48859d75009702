package block

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// jsonObject описание типа объекта в assets/objects/*.json
type jsonObject struct {
	ID       ObjectType `json:"id"`
	Name     string     `json:"name"`
	Passable bool       `json:"passable"`
	Fluid    string     `json:"fluid,omitempty"`
}

// LoadJSONBlocks загружает описания типов из каталога в таблицу.
// Каждый файл содержит один объект или массив объектов.
// Возвращает количество загруженных типов.
func LoadJSONBlocks(t *Table, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("ошибка чтения %s: %w", path, err)
		}

		objects, err := decodeObjects(data)
		if err != nil {
			return loaded, fmt.Errorf("ошибка разбора %s: %w", path, err)
		}

		for _, obj := range objects {
			fluid, err := parseFluid(obj.Fluid)
			if err != nil {
				return loaded, fmt.Errorf("%s: объект %d: %w", path, obj.ID, err)
			}
			t.Register(obj.ID, Properties{Name: obj.Name, Passable: obj.Passable, Fluid: fluid})
			loaded++
		}
	}

	return loaded, nil
}

func decodeObjects(data []byte) ([]jsonObject, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []jsonObject
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var single jsonObject
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []jsonObject{single}, nil
}

func parseFluid(s string) (FluidKind, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return FluidNone, nil
	case "water":
		return FluidWater, nil
	case "lava":
		return FluidLava, nil
	default:
		return FluidNone, fmt.Errorf("неизвестный тип жидкости %q", s)
	}
}
