package license

import "strings"

// pythonStdlib lists top-level standard library modules that never need a license lookup
var pythonStdlib = map[string]bool{
	"__future__": true, "abc": true, "argparse": true, "array": true, "ast": true,
	"asyncio": true, "base64": true, "bisect": true, "builtins": true, "calendar": true,
	"cmath": true, "collections": true, "concurrent": true, "configparser": true,
	"contextlib": true, "copy": true, "csv": true, "ctypes": true, "dataclasses": true,
	"datetime": true, "decimal": true, "difflib": true, "email": true, "enum": true,
	"errno": true, "fnmatch": true, "fractions": true, "functools": true, "gc": true,
	"getpass": true, "glob": true, "gzip": true, "hashlib": true, "heapq": true,
	"hmac": true, "html": true, "http": true, "importlib": true, "inspect": true,
	"io": true, "ipaddress": true, "itertools": true, "json": true, "logging": true,
	"math": true, "mimetypes": true, "multiprocessing": true, "operator": true,
	"os": true, "pathlib": true, "pickle": true, "platform": true, "pprint": true,
	"queue": true, "random": true, "re": true, "secrets": true, "select": true,
	"shlex": true, "shutil": true, "signal": true, "socket": true, "sqlite3": true,
	"ssl": true, "statistics": true, "string": true, "struct": true, "subprocess": true,
	"sys": true, "tempfile": true, "textwrap": true, "threading": true, "time": true,
	"timeit": true, "tkinter": true, "traceback": true, "types": true, "typing": true,
	"unittest": true, "urllib": true, "uuid": true, "venv": true, "warnings": true,
	"weakref": true, "xml": true, "zipfile": true, "zlib": true, "zoneinfo": true,
}

// pythonAliases maps import names to their PyPI distribution names
var pythonAliases = map[string]string{
	"yaml":     "PyYAML",
	"bs4":      "beautifulsoup4",
	"sklearn":  "scikit-learn",
	"PIL":      "Pillow",
	"cv2":      "opencv-python",
	"dotenv":   "python-dotenv",
	"dateutil": "python-dateutil",
	"jwt":      "PyJWT",
	"git":      "GitPython",
	"Crypto":   "pycryptodome",
	"OpenSSL":  "pyOpenSSL",
	"magic":    "python-magic",
	"docx":     "python-docx",
	"serial":   "pyserial",
	"attr":     "attrs",
	"google":   "protobuf",
	"skimage":  "scikit-image",
	"psycopg2": "psycopg2-binary",
	"MySQLdb":  "mysqlclient",
	"zmq":      "pyzmq",
}

// javaImportAliases maps package prefixes to Maven group/artifact pairs
var javaImportAliases = map[string][2]string{
	"org.apache.commons.lang3":        {"org.apache.commons", "commons-lang3"},
	"org.apache.commons.io":           {"commons-io", "commons-io"},
	"org.apache.commons.collections4": {"org.apache.commons", "commons-collections4"},
	"org.apache.logging.log4j":        {"org.apache.logging.log4j", "log4j-core"},
	"org.apache.http":                 {"org.apache.httpcomponents", "httpclient"},
	"org.slf4j":                       {"org.slf4j", "slf4j-api"},
	"com.google.gson":                 {"com.google.code.gson", "gson"},
	"com.google.common":               {"com.google.guava", "guava"},
	"com.fasterxml.jackson.databind":  {"com.fasterxml.jackson.core", "jackson-databind"},
	"com.fasterxml.jackson.core":      {"com.fasterxml.jackson.core", "jackson-core"},
	"org.junit.jupiter":               {"org.junit.jupiter", "junit-jupiter-api"},
	"org.junit":                       {"junit", "junit"},
	"org.mockito":                     {"org.mockito", "mockito-core"},
	"org.springframework.boot":        {"org.springframework.boot", "spring-boot"},
	"org.springframework":             {"org.springframework", "spring-core"},
	"org.hibernate":                   {"org.hibernate", "hibernate-core"},
	"lombok":                          {"org.projectlombok", "lombok"},
	"okhttp3":                         {"com.squareup.okhttp3", "okhttp"},
	"io.netty":                        {"io.netty", "netty-all"},
	"org.json":                        {"org.json", "json"},
	"org.yaml.snakeyaml":              {"org.yaml", "snakeyaml"},
	"com.mysql":                       {"com.mysql", "mysql-connector-j"},
	"org.postgresql":                  {"org.postgresql", "postgresql"},
}

// javaSkipPrefixes are JDK packages
var javaSkipPrefixes = []string{"java.", "javax.", "jdk.", "sun.", "com.sun."}

// distributionName maps a python import to the package to look up, or "" to skip it
func distributionName(module string) string {
	top := module
	if i := strings.Index(top, "."); i >= 0 {
		top = top[:i]
	}
	if top == "" || pythonStdlib[top] {
		return ""
	}
	if alias, ok := pythonAliases[top]; ok {
		return alias
	}
	return top
}

// mavenCoordinates finds the longest alias prefix for a java import
func mavenCoordinates(imp string) (group, artifact string, ok bool) {
	best := ""
	for prefix := range javaImportAliases {
		if (imp == prefix || strings.HasPrefix(imp, prefix+".")) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", "", false
	}
	ga := javaImportAliases[best]
	return ga[0], ga[1], true
}

func isJDKImport(imp string) bool {
	for _, p := range javaSkipPrefixes {
		if strings.HasPrefix(imp, p) {
			return true
		}
	}
	return false
}
