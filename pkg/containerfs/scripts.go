package containerfs

// The filesystem verbs that need structured answers run short python
// programs inside the container. Every input reaches a program through
// sys.argv (file content additionally base64-wrapped), never by textual
// interpolation, and each program prints exactly one JSON document on
// stdout with an "error" discriminant on failure.

const statScript = `
import json, os, mimetypes, sys

path = sys.argv[1]
try:
    st = os.stat(path)
    is_dir = os.path.isdir(path)
    name = os.path.basename(path) or "/"
    mime, _ = mimetypes.guess_type(name)
    print(json.dumps({
        "name": name,
        "path": path,
        "type": "directory" if is_dir else "file",
        "size": 0 if is_dir else st.st_size,
        "mime_type": mime,
        "mtime": st.st_mtime,
        "ctime": st.st_ctime,
    }))
except FileNotFoundError:
    print(json.dumps({"error": "not_found"}))
    sys.exit(1)
except PermissionError:
    print(json.dumps({"error": "permission_denied"}))
    sys.exit(1)
`

const lsScript = `
import json, os, mimetypes, sys

path = sys.argv[1]
if os.path.exists(path) and not os.path.isdir(path):
    print(json.dumps({"error": "not_directory"}))
    sys.exit(1)
try:
    entries = sorted(os.scandir(path), key=lambda e: (not e.is_dir(), e.name.lower()))
except FileNotFoundError:
    print(json.dumps({"error": "not_found"}))
    sys.exit(1)
except PermissionError:
    print(json.dumps({"error": "permission_denied"}))
    sys.exit(1)

result = []
for entry in entries:
    try:
        st = entry.stat(follow_symlinks=False)
    except OSError:
        continue
    mime, _ = mimetypes.guess_type(entry.name)
    is_dir = entry.is_dir(follow_symlinks=False)
    result.append({
        "name": entry.name,
        "path": entry.path,
        "type": "directory" if is_dir else "file",
        "size": 0 if is_dir else st.st_size,
        "mime_type": mime,
        "mtime": st.st_mtime,
        "ctime": st.st_ctime,
    })
print(json.dumps(result))
`

const treeScript = `
import json, os, mimetypes, sys

base = sys.argv[1]
max_depth = int(sys.argv[2])

def tree(path, depth=0):
    result = []
    if depth > max_depth:
        return result
    try:
        entries = sorted(os.scandir(path), key=lambda e: (not e.is_dir(), e.name.lower()))
    except (PermissionError, FileNotFoundError):
        return result
    for entry in entries:
        try:
            st = entry.stat(follow_symlinks=False)
        except OSError:
            continue
        mime, _ = mimetypes.guess_type(entry.name)
        is_dir = entry.is_dir(follow_symlinks=False)
        node = {
            "name": entry.name,
            "path": entry.path,
            "type": "directory" if is_dir else "file",
            "size": 0 if is_dir else st.st_size,
            "mime_type": mime,
            "mtime": st.st_mtime,
            "ctime": st.st_ctime,
        }
        if is_dir:
            node["children"] = tree(entry.path, depth + 1)
        result.append(node)
    return result

try:
    st = os.stat(base)
    data = {
        "name": "/",
        "path": base,
        "type": "directory",
        "size": 0,
        "mime_type": None,
        "mtime": st.st_mtime,
        "ctime": st.st_ctime,
        "children": tree(base),
    }
    print(json.dumps(data))
except Exception as e:
    print(json.dumps({"error": str(e)}))
    sys.exit(1)
`

const searchScript = `
import json, os, mimetypes, sys

query = sys.argv[1].lower()
scope = sys.argv[2]
max_results = int(sys.argv[3])
results = []

for root, dirs, files in os.walk(scope):
    for name in dirs + files:
        if query in name.lower():
            full_path = os.path.join(root, name)
            try:
                st = os.stat(full_path)
                is_dir = os.path.isdir(full_path)
                mime, _ = mimetypes.guess_type(name)
                results.append({
                    "name": name,
                    "path": full_path,
                    "type": "directory" if is_dir else "file",
                    "size": 0 if is_dir else st.st_size,
                    "mime_type": mime,
                    "mtime": st.st_mtime,
                    "ctime": st.st_ctime,
                })
                if len(results) >= max_results:
                    break
            except OSError:
                continue
    if len(results) >= max_results:
        break

print(json.dumps(results))
`

const readFileScript = `
import json, os, sys

path = sys.argv[1]
max_size = int(sys.argv[2])

if not os.path.exists(path):
    print(json.dumps({"error": "not_found"}))
    sys.exit(0)

if os.path.isdir(path):
    print(json.dumps({"error": "is_directory"}))
    sys.exit(0)

size = os.path.getsize(path)
if size > max_size:
    print(json.dumps({"error": "too_large", "size": size}))
    sys.exit(0)

try:
    with open(path, "r", encoding="utf-8") as f:
        content = f.read()
    print(json.dumps({"content": content, "size": size, "encoding": "utf-8"}))
except UnicodeDecodeError:
    print(json.dumps({"error": "binary_file"}))
    sys.exit(0)
`

const writeFileScript = `
import base64, json, os, sys

path = sys.argv[1]
encoded = sys.argv[2]

try:
    content = base64.b64decode(encoded).decode("utf-8")
    parent = os.path.dirname(path)
    if parent and not os.path.exists(parent):
        os.makedirs(parent, exist_ok=True)
    with open(path, "w", encoding="utf-8") as f:
        f.write(content)
    print(json.dumps({"ok": True}))
except Exception as e:
    print(json.dumps({"error": str(e)}))
    sys.exit(1)
`
