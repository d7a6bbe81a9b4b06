package fork

import "encoding/json"

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(body string, v interface{}) error {
	return json.Unmarshal([]byte(body), v)
}
